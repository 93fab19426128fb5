package tsdb

import (
	"fmt"
	"sort"
	"strings"
)

// Query selects the latest windowed mean of a set of fields.
type Query struct {
	Bucket      string
	Measurement string
	Fields      []string
	// Tags are equality filters, e.g. stream=Water_i.
	Tags   map[string]string
	Range  string // e.g. -1h
	Window string // e.g. 1m
}

// BuildLastValuesQuery renders q as Flux: group by field, mean per window,
// keep the last window. Only the listed fields are selected.
func BuildLastValuesQuery(q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", quote(q.Bucket))
	fmt.Fprintf(&b, "  |> range(start: %s)\n", orDefault(q.Range, "-1h"))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", quote(q.Measurement))

	keys := make([]string, 0, len(q.Tags))
	for k := range q.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r[%s] == %s)\n", quote(k), quote(q.Tags[k]))
	}

	if len(q.Fields) > 0 {
		conds := make([]string, len(q.Fields))
		for i, f := range q.Fields {
			conds[i] = "r._field == " + quote(f)
		}
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(conds, " or "))
	}

	fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)\n", orDefault(q.Window, "1m"))
	b.WriteString("  |> group(columns: [\"_field\"])\n")
	b.WriteString("  |> last()\n")
	return b.String()
}

// BuildMeasurementsQuery lists up to ten measurement names seen in bucket
// over the last day.
func BuildMeasurementsQuery(bucket string) string {
	return fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurements(bucket: %s, start: -24h)
  |> limit(n: 10)
`, quote(bucket))
}

// quote renders s as a Flux string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
