package common

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
)

// Contains checks if an item is in a slice. This function uses type parameters to work with any slice type.
func Contains[T comparable](slice []T, item T) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}

	return false
}

// SafeIntToUint64 safe mode to converter int to uint64
func SafeIntToUint64(val int) uint64 {
	if val < 0 {
		return uint64(1)
	}

	return uint64(val)
}

// IsUUID Validate if the string pass through is an uuid
func IsUUID(s string) bool {
	r := regexp.MustCompile("^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[1-7][a-fA-F0-9]{3}-[89abAB][a-fA-F0-9]{3}-[a-fA-F0-9]{12}$")
	return r.MatchString(s)
}

// GenerateUUIDv7 generates a new uuid v7 using the google/uuid package and returns it. It panics if the uuid cannot be generated.
func GenerateUUIDv7() uuid.UUID {
	u := uuid.Must(uuid.NewV7())

	return u
}

// StructToJSONString convert a struct to json string
func StructToJSONString(s any) (string, error) {
	jsonByte, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(jsonByte), nil
}

// StablePartition maps a stream id onto a partition number. The first four
// bytes of the md5 digest are read big-endian; the same definition is used by
// the process_work_batch SQL function so every store agrees on ownership.
func StablePartition(streamID string, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}

	sum := md5.Sum([]byte(streamID))

	return int(uint64(binary.BigEndian.Uint32(sum[:4])) % SafeIntToUint64(partitionCount))
}
