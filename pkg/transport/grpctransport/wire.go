package grpctransport

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func encodeCall(c call) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		panic(fmt.Sprintf("grpctransport: encoding call: %v", err))
	}
	return buf.Bytes()
}

func decodeCall(data []byte) (call, error) {
	var c call
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return call{}, err
	}
	return c, nil
}
