package model

import "time"

// EventKind names a workflow event on the wire (MQTT topic leaf, JSON "kind").
type EventKind string

const (
	KindProgress           EventKind = "progress"
	KindRowPending         EventKind = "row_pending"
	KindBootloaderResult   EventKind = "bootloader_result"
	KindSerialVerifyResult EventKind = "serial_verify_result"
	KindFinished           EventKind = "finished"
	KindDrained            EventKind = "drained"
)

// Event is the only channel from the workflow and orchestrator to the shell.
type Event interface {
	Kind() EventKind
	Time() time.Time
}

// Progress is a free-form status line.
type Progress struct {
	At   time.Time `json:"at"`
	Key  string    `json:"key,omitempty"`
	Text string    `json:"text"`
}

// RowPending announces that a task is about to run; both indicators of the row
// reset.
type RowPending struct {
	At           time.Time `json:"at"`
	Key          string    `json:"key"`
	Row          int       `json:"row"`
	SerialNumber string    `json:"serialNumber"`
	// Queued is the number of tasks still waiting behind this one.
	Queued int `json:"queued"`
}

// BootloaderResult reports the flash check of a row.
type BootloaderResult struct {
	At  time.Time `json:"at"`
	Key string    `json:"key"`
	Row int       `json:"row"`
	OK  bool      `json:"ok"`
}

// SerialVerifyResult reports the serial-number cross-check of a row.
type SerialVerifyResult struct {
	At  time.Time `json:"at"`
	Key string    `json:"key"`
	Row int       `json:"row"`
	OK  bool      `json:"ok"`
}

// Finished is the last event of a unit.
type Finished struct {
	At           time.Time `json:"at"`
	Key          string    `json:"key"`
	Row          int       `json:"row"`
	SerialNumber string    `json:"serialNumber"`
	OK           bool      `json:"ok"`
	Message      string    `json:"message"`
}

// Summary totals a drained queue.
type Summary struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Verified  int  `json:"verified"`
	Aborted   bool `json:"aborted"`
}

// Drained is emitted when the queue runs empty.
type Drained struct {
	At      time.Time `json:"at"`
	Summary Summary   `json:"summary"`
}

func (e Progress) Kind() EventKind           { return KindProgress }
func (e RowPending) Kind() EventKind         { return KindRowPending }
func (e BootloaderResult) Kind() EventKind   { return KindBootloaderResult }
func (e SerialVerifyResult) Kind() EventKind { return KindSerialVerifyResult }
func (e Finished) Kind() EventKind           { return KindFinished }
func (e Drained) Kind() EventKind            { return KindDrained }

func (e Progress) Time() time.Time           { return e.At }
func (e RowPending) Time() time.Time         { return e.At }
func (e BootloaderResult) Time() time.Time   { return e.At }
func (e SerialVerifyResult) Time() time.Time { return e.At }
func (e Finished) Time() time.Time           { return e.At }
func (e Drained) Time() time.Time            { return e.At }
