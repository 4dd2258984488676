package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mesh-intelligence/larder/pkg/store"
)

// objectView is the JSON shape printed for an object.
type objectView struct {
	ID            string              `json:"id"`
	Entity        string              `json:"entity"`
	Attributes    map[string]any      `json:"attributes"`
	Relationships map[string][]string `json:"relationships,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func viewOf(o *store.Object) objectView {
	v := objectView{
		ID:         o.ID(),
		Entity:     o.Entity(),
		Attributes: o.Values(),
		CreatedAt:  o.CreatedAt(),
		UpdatedAt:  o.UpdatedAt(),
	}
	entity, err := o.Context().Model().Entity(o.Entity())
	if err != nil {
		return v
	}
	for _, r := range entity.Relationships {
		if ids := o.RelatedIDs(r.Name); len(ids) > 0 {
			if v.Relationships == nil {
				v.Relationships = make(map[string][]string)
			}
			v.Relationships[r.Name] = ids
		}
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

// printObjects writes objects as a JSON array or one line per object.
func printObjects(w io.Writer, jsonMode bool, objs []*store.Object) error {
	views := make([]objectView, len(objs))
	for i, o := range objs {
		views[i] = viewOf(o)
	}
	if jsonMode {
		return printJSON(w, views)
	}
	for _, v := range views {
		fmt.Fprintln(w, summary(v))
	}
	return nil
}

// summary renders "Entity id key=value ..." with keys in sorted order.
func summary(v objectView) string {
	var b strings.Builder
	b.WriteString(v.Entity)
	b.WriteByte(' ')
	b.WriteString(v.ID)

	keys := make([]string, 0, len(v.Attributes))
	for k := range v.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(v.Attributes[k]))
	}

	rels := make([]string, 0, len(v.Relationships))
	for k := range v.Relationships {
		rels = append(rels, k)
	}
	sort.Strings(rels)
	for _, k := range rels {
		fmt.Fprintf(&b, " %s=[%s]", k, strings.Join(v.Relationships[k], ","))
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if strings.ContainsAny(x, " \t\"") {
			return fmt.Sprintf("%q", x)
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
