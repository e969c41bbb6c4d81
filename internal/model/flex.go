package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LLM output is loose about scalar types: ids come back as 306, "306" or
// 306.0 depending on the prompt and the model. These types accept all of them.

// StringArray accepts either a JSON array of strings or a single string.
type StringArray []string

func (sa *StringArray) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*sa = arr
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*sa = []string{s}
		return nil
	}

	return fmt.Errorf("StringArray: expected string or array of strings, got %s", data)
}

// FlexInt accepts a JSON integer, an integral float, or a numeric string.
type FlexInt int

func (fi *FlexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		if f != math.Trunc(f) {
			return fmt.Errorf("FlexInt: non-integral number %s", data)
		}
		*fi = FlexInt(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("FlexInt: expected number or numeric string, got %s", data)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("FlexInt: %w", err)
	}
	*fi = FlexInt(n)
	return nil
}

// IntList accepts an array of FlexInt values or a single FlexInt.
type IntList []int

func (il *IntList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*il = nil
		return nil
	}

	var arr []FlexInt
	if err := json.Unmarshal(data, &arr); err == nil {
		out := make([]int, len(arr))
		for i, v := range arr {
			out[i] = int(v)
		}
		*il = out
		return nil
	}

	var single FlexInt
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("IntList: expected number or array of numbers, got %s", data)
	}
	*il = []int{int(single)}
	return nil
}

// FlexString accepts a JSON string or number and keeps its textual form.
type FlexString string

func (fs *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*fs = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*fs = FlexString(n.String())
		return nil
	}

	return fmt.Errorf("FlexString: expected string or number, got %s", data)
}

// FlexFloat accepts a JSON number or a numeric string.
type FlexFloat float64

func (ff *FlexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*ff = FlexFloat(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("FlexFloat: expected number or numeric string, got %s", data)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("FlexFloat: %w", err)
	}
	*ff = FlexFloat(f)
	return nil
}
