package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type IDType string

const (
	IDTypePrompt   IDType = "pmt"
	IDTypeFolder   IDType = "fld"
	IDTypeSchedule IDType = "sch"
)

var validIDTypes = map[IDType]bool{
	IDTypePrompt:   true,
	IDTypeFolder:   true,
	IDTypeSchedule: true,
}

var idRegex = regexp.MustCompile(`^(pmt|fld|sch)_[0-9]{10}_[0-9a-f]{8}$`)

// RootFolderID is the fixed id of the library root folder. It is not a
// generated id so that every installation shares the same root.
const RootFolderID = "fld_root"

func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	hexStr := hex.EncodeToString(randomBytes)

	return fmt.Sprintf("%s_%010d_%s", idType, timestamp, hexStr), nil
}

func ValidateID(id string) bool {
	return id == RootFolderID || idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if id == RootFolderID {
		return IDTypeFolder, nil
	}
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !idRegex.MatchString(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	sec, err := strconv.ParseInt(id[4:14], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp in %s: %w", id, err)
	}
	return time.Unix(sec, 0), nil
}
