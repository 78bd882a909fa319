package results

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// PayloadKind is the write operation for one plan item.
type PayloadKind string

const (
	CopyFile  PayloadKind = "copy-file"
	WriteJSON PayloadKind = "write-json"
	WriteText PayloadKind = "write-text"
)

const (
	SaveAsJSON     = "json"
	SaveAsJSONList = "json_list"

	defaultBase = "result"
	jsonExt     = ".json"
	textExt     = ".txt"
)

// Hints are the task parameters that steer classification.
type Hints struct {
	// FileName overrides the target name (or the base of indexed names).
	FileName string
	// SaveAs is "", "json" or "json_list".
	SaveAs string
	// Binary writes text payloads verbatim instead of as UTF-8.
	Binary bool
}

// Item is one file to produce. Source is set for CopyFile and for WriteJSON
// items backed by an existing JSON file.
type Item struct {
	Name   string
	Kind   PayloadKind
	Source string
	Data   any
	Text   string
}

// Plan is the ordered set of writes for one task result. An empty plan means
// there is nothing to persist.
type Plan struct {
	Items    []Item
	Warnings []string
	Binary   bool
}

// Empty reports whether the plan has no items.
func (p Plan) Empty() bool { return len(p.Items) == 0 }

// Names returns the target file names in order.
func (p Plan) Names() []string {
	names := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		names = append(names, it.Name)
	}
	return names
}

// Classify decides how to persist v. It is total over Kind and never touches
// the filesystem.
func Classify(v Value, h Hints) Plan {
	plan := Plan{Binary: h.Binary}

	switch v.Kind {
	case KindNone:
		return plan
	case KindFile:
		plan.Items = []Item{copyItem(v.Path, h.FileName)}
	case KindJSONFile:
		if h.SaveAs == SaveAsJSON {
			plan.Items = []Item{{Name: orDefault(h.FileName, defaultBase+jsonExt), Kind: WriteJSON, Source: v.Path}}
		} else {
			plan.Items = []Item{copyItem(v.Path, h.FileName)}
		}
	case KindJSON:
		plan.Items = []Item{{Name: orDefault(h.FileName, defaultBase+jsonExt), Kind: WriteJSON, Data: v.Data}}
	case KindText:
		plan.Items = []Item{{Name: orDefault(h.FileName, defaultBase+textExt), Kind: WriteText, Text: v.Text}}
	case KindList:
		classifyList(&plan, v.Items, h)
	default:
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("unsupported result kind %s", v.Kind))
	}
	return plan
}

func classifyList(plan *Plan, raw []Value, h Hints) {
	items := make([]Value, 0, len(raw))
	for _, it := range raw {
		if it.Kind != KindNone {
			items = append(items, it)
		}
	}
	if len(raw) != len(items) {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("dropped %d empty list elements", len(raw)-len(items)))
	}

	switch {
	case len(items) == 0:
		return

	case h.SaveAs == SaveAsJSON:
		data := make([]any, 0, len(items))
		for _, it := range items {
			data = append(data, it.Plain())
		}
		plan.Items = []Item{{Name: orDefault(h.FileName, defaultBase+jsonExt), Kind: WriteJSON, Data: data}}

	case h.SaveAs == SaveAsJSONList:
		base, _ := splitName(h.FileName)
		for i, it := range items {
			plan.Items = append(plan.Items, Item{
				Name: indexedName(base, i, jsonExt),
				Kind: WriteJSON,
				Data: it.Plain(),
			})
		}

	case items[0].IsFile() && allFiles(items):
		seen := make(map[string]int, len(items))
		for i, it := range items {
			var name string
			if h.FileName == "" {
				name = filepath.Base(it.Path)
			} else {
				base, ext := splitName(h.FileName)
				if ext == "" {
					ext = filepath.Ext(it.Path)
				}
				name = indexedName(base, i, ext)
			}
			item := Item{Name: name, Kind: CopyFile, Source: it.Path}
			if at, dup := seen[name]; dup {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("duplicate target name %q, later file wins", name))
				plan.Items[at] = item
				continue
			}
			seen[name] = len(plan.Items)
			plan.Items = append(plan.Items, item)
		}

	default:
		if !allText(items) {
			plan.Warnings = append(plan.Warnings, "mixed-type list written as text; non-text elements are rendered as JSON")
		}
		base, ext := splitName(h.FileName)
		if ext == "" {
			ext = textExt
		}
		for i, it := range items {
			plan.Items = append(plan.Items, Item{
				Name: indexedName(base, i, ext),
				Kind: WriteText,
				Text: renderText(it),
			})
		}
	}
}

func copyItem(src, override string) Item {
	return Item{Name: orDefault(override, filepath.Base(src)), Kind: CopyFile, Source: src}
}

func allFiles(items []Value) bool {
	for _, it := range items {
		if !it.IsFile() {
			return false
		}
	}
	return true
}

func allText(items []Value) bool {
	for _, it := range items {
		if it.Kind != KindText {
			return false
		}
	}
	return true
}

func renderText(v Value) string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindFile, KindJSONFile:
		return v.Path
	}
	data, err := json.Marshal(v.Plain())
	if err != nil {
		return fmt.Sprint(v.Plain())
	}
	return string(data)
}

// splitName returns the stem and extension of a file name override, falling
// back to the default stem.
func splitName(name string) (string, string) {
	if name == "" {
		return defaultBase, ""
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem = defaultBase
	}
	return stem, ext
}

func indexedName(base string, i int, ext string) string {
	return fmt.Sprintf("%s%d%s", base, i, ext)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
