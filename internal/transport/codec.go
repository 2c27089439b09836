// Package transport carries tagged raw records from the fetch unit to the
// normalize unit. Sub-packages provide the channel backends; this package
// holds the wire encoding they share.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// Encode renders a raw record as a JSON object.
func Encode(record inventory.RawRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode raw record: %w", err)
	}
	return data, nil
}

// Decode parses a channel message. Numbers are kept as json.Number so source
// values survive the hop verbatim.
func Decode(data []byte) (inventory.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var record inventory.RawRecord
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", inventory.ErrMalformedRecord, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: message is not an object", inventory.ErrMalformedRecord)
	}
	return record, nil
}
