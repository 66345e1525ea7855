// Package batch turns operator manifests into unit tasks.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/storage"
)

// ErrInvalidManifest wraps every reason a manifest cannot become a batch.
var ErrInvalidManifest = errors.New("invalid manifest")

// Unit is one serial entry of a manifest. Cycle pins the fixture socket; zero
// means the next free one in order.
type Unit struct {
	Serial string `yaml:"serial" json:"serial"`
	Cycle  int    `yaml:"cycle,omitempty" json:"cycle,omitempty"`
}

// Manifest describes one batch: a bootloader image, a firmware image and up
// to eight units.
//
//	bootloader: ./images/boot.bin
//	firmware: s3://firmware/v2.4/app.acfr
//	units:
//	  - serial: SN12345
//	  - serial: ""        # empty socket, skipped
//	  - serial: SN12347
//	    cycle: 5
type Manifest struct {
	Bootloader string `yaml:"bootloader" json:"bootloader"`
	Firmware   string `yaml:"firmware" json:"firmware"`
	Units      []Unit `yaml:"units" json:"units"`
}

// ParseManifest decodes a YAML (or JSON) manifest. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return &m, nil
}

// LoadManifest reads a manifest file. Relative local image paths are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Bootloader = resolve(dir, m.Bootloader)
	m.Firmware = resolve(dir, m.Firmware)
	return m, nil
}

func resolve(dir, ref string) string {
	if ref == "" || strings.HasPrefix(ref, storage.Scheme) || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}

// Tasks validates the manifest and builds its tasks under a new batch id.
// Empty serial entries are skipped; keys are serial_<slot> with 1-based slots.
func (m *Manifest) Tasks() ([]*model.UnitTask, error) {
	var errs []error
	if strings.TrimSpace(m.Bootloader) == "" {
		errs = append(errs, errors.New("bootloader image is not set"))
	}
	if strings.TrimSpace(m.Firmware) == "" {
		errs = append(errs, errors.New("firmware image is not set"))
	}
	if len(m.Units) > link.MaxCycle {
		errs = append(errs, fmt.Errorf("%d units given, the fixture holds %d", len(m.Units), link.MaxCycle))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}

	batchID := uuid.NewString()
	used := map[int]string{}
	var tasks []*model.UnitTask
	next := 0

	for i, u := range m.Units {
		serial := strings.TrimSpace(u.Serial)
		if serial == "" {
			continue
		}
		next++

		cycle := next
		if u.Cycle != 0 {
			cycle = u.Cycle
		}
		key := fmt.Sprintf("serial_%d", i+1)

		if err := link.ValidateCycle(cycle); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if other, ok := used[cycle]; ok {
			errs = append(errs, fmt.Errorf("%s: cycle %d already used by %s", key, cycle, other))
			continue
		}
		used[cycle] = key

		tasks = append(tasks, &model.UnitTask{
			Key:             key,
			BatchID:         batchID,
			SerialNumber:    serial,
			CycleNumber:     cycle,
			BootloaderImage: m.Bootloader,
			FirmwareImage:   m.Firmware,
		})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no serial numbers", ErrInvalidManifest)
	}
	return tasks, nil
}
