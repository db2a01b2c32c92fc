package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/geo"
)

var escaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "=", `\=`, "(", `\(`, ")", `\)`)

// Params are the named arguments of a cached call.
type Params map[string]any

// Key derives the cache identifier for a call of name with params. It is a
// pure function of the normalised arguments: parameter order and the order
// of list values do not matter.
//
// Normalisation: times render as DD.MM.YY, durations as "<minutes>min",
// points through geo.FormatCoords, string lists sorted and comma joined and
// other scalars in their plain decimal form. Names, strings and list items
// have the separators \ , ; = ( ) escaped with a backslash so that distinct
// arguments never render the same.
func Key(name string, params Params) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = escaper.Replace(k) + "=" + normalize(params[k])
	}
	return name + "(" + strings.Join(parts, ";") + ")"
}

func normalize(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format("02.01.06")
	case time.Duration:
		return strconv.FormatInt(int64(v/time.Minute), 10) + "min"
	case geo.Point:
		return geo.FormatCoords([]geo.Point{v})
	case []geo.Point:
		return geo.FormatCoords(v)
	case string:
		return escaper.Replace(v)
	case []string:
		sorted := make([]string, len(v))
		for i, s := range v {
			sorted[i] = escaper.Replace(s)
		}
		sort.Strings(sorted)
		return strings.Join(sorted, ",")
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return escaper.Replace(v.String())
	default:
		return escaper.Replace(fmt.Sprint(v))
	}
}
