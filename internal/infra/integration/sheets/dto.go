package sheets

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type Tab struct {
	TabID int    `json:"tab_id"`
	Title string `json:"title"`
}

type spreadsheetResponse struct {
	Tabs []Tab `json:"tabs"`
}

// Cell is one value of a range. The store returns strings, numbers and
// booleans; all of them are kept as their text form.
type Cell string

func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cell(s)
		return nil
	}
	if string(data) == "true" || string(data) == "false" {
		*c = Cell(string(data))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*c = Cell(strconv.FormatInt(i, 10))
		return nil
	}
	*c = Cell(n.String())
	return nil
}

type ValueRange struct {
	Range  string   `json:"range"`
	Values [][]Cell `json:"values"`
}

// Rows returns the values as plain strings.
func (v ValueRange) Rows() [][]string {
	out := make([][]string, len(v.Values))
	for i, row := range v.Values {
		out[i] = make([]string, len(row))
		for j, c := range row {
			out[i][j] = string(c)
		}
	}
	return out
}

type batchGetResponse struct {
	ValueRanges []ValueRange `json:"value_ranges"`
}

type updateRequest struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}
