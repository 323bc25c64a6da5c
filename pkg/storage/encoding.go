package storage

import (
	"encoding/binary"
	"fmt"
)

func readLPBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated value: need %d have %d", n, len(b))
	}
	return b[:n], b[n:], nil
}

func readLPString(b []byte) (string, []byte, error) {
	v, rest, err := readLPBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(v), rest, nil
}
