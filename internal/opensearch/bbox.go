package opensearch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/me/weaver/pkg/model"
)

// ParseBBox normalizes an area of interest to "minx,miny,maxx,maxy". It
// accepts that form directly or a WKT point, linestring, polygon or
// multipoint, reduced to its bounds.
func ParseBBox(aoi string) (string, error) {
	s := strings.TrimSpace(aoi)
	if parts := strings.Split(s, ","); len(parts) == 4 {
		coords := make([]string, 4)
		ok := true
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				ok = false
				break
			}
			coords[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		if ok {
			return strings.Join(coords, ","), nil
		}
	}

	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return "", &model.ResolutionError{Message: fmt.Sprintf("invalid area of interest %q", aoi), Err: err}
	}
	b := geom.Bound()
	return strings.Join([]string{
		strconv.FormatFloat(b.Min[0], 'f', -1, 64),
		strconv.FormatFloat(b.Min[1], 'f', -1, 64),
		strconv.FormatFloat(b.Max[0], 'f', -1, 64),
		strconv.FormatFloat(b.Max[1], 'f', -1, 64),
	}, ","), nil
}
