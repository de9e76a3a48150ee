package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// Feature is a single model attribute with its importance weight.
type Feature struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"` // fraction in [0,1]
	Category    string  `json:"category,omitempty"`
}

// Percent returns the importance as a percentage for display.
func (f Feature) Percent() float64 {
	return f.Importance * 100
}

// FeatureImportance is one key/importance pair of a category.
type FeatureImportance struct {
	Key        string
	Importance float64
}

// FeatureCategory is a named key → importance mapping returned by a
// calculation. Entries keep the order they were received in, which is the
// tie-break order for equal importances.
type FeatureCategory struct {
	Name    string
	Entries []FeatureImportance
}

// UnmarshalJSON decodes {"name": "...", "features": {"key": 0.4}}, preserving
// the key order of the features object.
func (c *FeatureCategory) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return eris.New("model: invalid feature category json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return eris.New("model: feature category must be an object")
	}
	name := root.Get("name").String()
	features := root.Get("features")
	if features.Exists() && !features.IsObject() {
		return eris.Errorf("model: category %q features must be an object", name)
	}

	c.Name = name
	c.Entries = nil
	var bad error
	features.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			bad = eris.Errorf("model: category %q feature %q importance is not a number", name, key.String())
			return false
		}
		c.Entries = append(c.Entries, FeatureImportance{Key: key.String(), Importance: value.Float()})
		return true
	})
	return bad
}

// MarshalJSON encodes a category with its features as an ordered object.
func (c FeatureCategory) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	if err := writeString(&buf, c.Name); err != nil {
		return nil, err
	}
	buf.WriteString(`,"features":{`)
	for i, e := range c.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, e.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(e.Importance, 'g', -1, 64))
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "model: marshal string")
	}
	buf.Write(b)
	return nil
}
