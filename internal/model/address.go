package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressList is a recipient field that was supplied either as a single
// address or as a list. The form is kept so records round-trip unchanged.
type AddressList struct {
	Addresses []string
	Multiple  bool
}

func NewAddress(addr string) *AddressList {
	return &AddressList{Addresses: []string{addr}}
}

func NewAddressList(addrs ...string) *AddressList {
	return &AddressList{Addresses: addrs, Multiple: true}
}

// String is the textual representation used for filtering: addresses
// joined by commas.
func (a *AddressList) String() string {
	if a == nil {
		return ""
	}
	return strings.Join(a.Addresses, ",")
}

func (a *AddressList) IsEmpty() bool {
	return a == nil || len(a.Addresses) == 0
}

func (a AddressList) MarshalJSON() ([]byte, error) {
	if a.Multiple {
		if a.Addresses == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Addresses)
	}
	if len(a.Addresses) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(a.Addresses[0])
}

func (a *AddressList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = AddressList{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("address list: %w", err)
		}
		*a = AddressList{Addresses: list, Multiple: true}
		return nil
	default:
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("address: %w", err)
		}
		*a = AddressList{Addresses: []string{single}}
		return nil
	}
}

// ParseAddressColumn decodes the stored column form: a JSON array for the
// list form, the bare address otherwise.
func ParseAddressColumn(s string, valid bool) *AddressList {
	if !valid {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return &AddressList{Addresses: list, Multiple: true}
		}
	}
	return NewAddress(s)
}

// ColumnValue is the inverse of ParseAddressColumn.
func (a *AddressList) ColumnValue() (string, bool) {
	if a == nil {
		return "", false
	}
	if a.Multiple {
		b, _ := json.Marshal(a.Addresses)
		if a.Addresses == nil {
			b = []byte("[]")
		}
		return string(b), true
	}
	if len(a.Addresses) == 0 {
		return "", true
	}
	return a.Addresses[0], true
}
