package webprov

import (
	"encoding/json"
	"fmt"
	"strings"
)

type deviceConfig struct {
	DeviceInfo *struct {
		SerialNumber json.RawMessage `json:"serialNumber"`
	} `json:"deviceInfo"`
}

// ReportedSerial extracts deviceInfo.serialNumber from the text of the
// config.json page. Browsers may surround the document with viewer chrome, so
// only the outermost object is parsed.
func ReportedSerial(body string) (string, error) {
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("config.json: no JSON object in page text")
	}

	var cfg deviceConfig
	if err := json.Unmarshal([]byte(body[start:end+1]), &cfg); err != nil {
		return "", fmt.Errorf("config.json: %w", err)
	}
	if cfg.DeviceInfo == nil || len(cfg.DeviceInfo.SerialNumber) == 0 || string(cfg.DeviceInfo.SerialNumber) == "null" {
		return "", ErrMissingSerial
	}

	var serial string
	if err := json.Unmarshal(cfg.DeviceInfo.SerialNumber, &serial); err != nil {
		return "", fmt.Errorf("config.json: serialNumber is not a string: %w", err)
	}
	return serial, nil
}

// VerifySerial compares the reported serial number with the expected one. The
// comparison is exact: no trimming, no case folding.
func VerifySerial(body, expected string) (bool, string, error) {
	reported, err := ReportedSerial(body)
	if err != nil {
		return false, "", err
	}
	return reported == expected, reported, nil
}
