package proxmox

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The cluster API is loose about scalar types: counters arrive as numbers or
// quoted strings depending on endpoint and version, and memory is reported
// either flat (resources listing) or nested (node status). These decoders
// normalize everything at the client boundary so callers only ever see the
// canonical shapes in internal/model.

// flexInt decodes an integer that may arrive as a JSON number or string
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	// Some endpoints report integral values in float notation.
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

// flexFloat decodes a float that may arrive as a JSON number or string
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// memValue decodes memory reported either as a flat byte count or as a
// nested {used, total, free} object. Fallback order is fixed: nested object
// first, then scalar.
type memValue struct {
	Used  int64
	Total int64
}

func (m *memValue) UnmarshalJSON(b []byte) error {
	var nested struct {
		Used  flexInt `json:"used"`
		Total flexInt `json:"total"`
		Free  flexInt `json:"free"`
	}
	if err := json.Unmarshal(b, &nested); err == nil {
		m.Used = int64(nested.Used)
		m.Total = int64(nested.Total)
		if m.Used == 0 && nested.Free > 0 && nested.Total > 0 {
			m.Used = int64(nested.Total - nested.Free)
		}
		return nil
	}

	var flat flexInt
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	m.Used = int64(flat)
	return nil
}
