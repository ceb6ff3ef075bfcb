package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC request id. The wire format allows strings and integers;
// the two forms never compare equal, so ID works as a map key for matching
// responses to requests.
type ID struct {
	str   string
	num   int64
	isStr bool
}

func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

func NumberID(n int64) ID {
	return ID{num: n}
}

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

// UnmarshalJSON accepts a JSON string or integer. Fractional numbers,
// booleans, null and composite values are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or integer")
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("id must be an integer, got %s", n)
	}
	*id = NumberID(i)
	return nil
}
