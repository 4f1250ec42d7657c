package lip

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Wire types mirroring the controller's integration report JSON. Field
// presence varies across firmware generations, so everything that may
// be absent is a pointer or tolerated when empty.
type reportEnvelope struct {
	LIPIdList *reportIDList `json:"LIPIdList"`
}

type reportIDList struct {
	Areas   []reportArea   `json:"Areas"`
	Devices []reportDevice `json:"Devices"`
	Zones   []reportZone   `json:"Zones"`
}

type reportArea struct {
	Name    string         `json:"Name"`
	ID      *int           `json:"ID"`
	Devices []reportDevice `json:"Devices"`
	Zones   []reportZone   `json:"Zones"`
	Outputs []reportZone   `json:"Outputs"`
}

type reportDevice struct {
	Name       string         `json:"Name"`
	ID         *int           `json:"ID"`
	DeviceType string         `json:"DeviceType"`
	Area       *reportAreaRef `json:"Area"`
	Buttons    []reportButton `json:"Buttons"`
}

type reportZone struct {
	Name       string         `json:"Name"`
	ID         *int           `json:"ID"`
	OutputType string         `json:"OutputType"`
	Area       *reportAreaRef `json:"Area"`
}

type reportAreaRef struct {
	Name string `json:"Name"`
}

type reportButton struct {
	Number    int    `json:"Number"`
	Name      string `json:"Name"`
	Engraving string `json:"Engraving"`
}

// bridgeDeviceID is the integration ID the controller assigns to
// itself. Scene buttons programmed in the Lutron app live on this
// virtual device.
const bridgeDeviceID = 1

// Node is an addressable entry in the device model: anything with an
// integration ID that commands can target.
type Node interface {
	NodeID() int
	NodeName() string
}

// Device is a keypad, remote, or the bridge itself.
type Device struct {
	ID         int
	Name       string
	DeviceType string
	AreaName   string
	Buttons    []Button
}

// NodeID returns the device's integration ID.
func (d *Device) NodeID() int { return d.ID }

// NodeName returns the device's display name.
func (d *Device) NodeName() string { return d.Name }

// Output is a dimmer, switch, shade, or fan controller zone.
type Output struct {
	ID         int
	Name       string
	OutputType string
	AreaName   string
}

// NodeID returns the output's integration ID.
func (o *Output) NodeID() int { return o.ID }

// NodeName returns the output's display name.
func (o *Output) NodeName() string { return o.Name }

// Button is one programmable button on a device.
type Button struct {
	Number    int
	Name      string
	Engraving string
}

// Scene is a named button on the controller's virtual bridge device.
// Activating it presses the corresponding button on device 1.
type Scene struct {
	ButtonNumber int
	Name         string
}

// Area groups the devices and outputs of one room.
type Area struct {
	Name    string
	Devices []*Device
	Outputs []*Output
}

// DeviceModel is the parsed integration report: the full addressable
// inventory of one controller.
type DeviceModel struct {
	Areas    []*Area
	Scenes   []Scene
	Warnings []string

	index map[int]Node
}

// Lookup returns the node with the given integration ID.
func (m *DeviceModel) Lookup(integrationID int) (Node, bool) {
	node, ok := m.index[integrationID]
	return node, ok
}

// NodeCount returns the number of addressable nodes in the model.
func (m *DeviceModel) NodeCount() int {
	return len(m.index)
}

// ParseIntegrationReport builds a device model from the controller's
// integration report JSON. Entries without an integration ID are
// skipped with a warning rather than failing the whole report; two
// entries claiming the same ID fail with ErrDuplicateID since commands
// could no longer be routed unambiguously.
func ParseIntegrationReport(data []byte) (*DeviceModel, error) {
	var envelope reportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}

	model := &DeviceModel{index: make(map[int]Node)}

	if envelope.LIPIdList == nil {
		model.Warnings = append(model.Warnings, "report has no LIPIdList section")
		return model, nil
	}
	list := envelope.LIPIdList

	areas := make(map[string]*Area)
	areaFor := func(name string) *Area {
		if name == "" {
			name = "Unassigned"
		}
		if a, ok := areas[name]; ok {
			return a
		}
		a := &Area{Name: name}
		areas[name] = a
		model.Areas = append(model.Areas, a)
		return a
	}

	addDevice := func(rd reportDevice, areaName string) error {
		if rd.ID == nil {
			model.Warnings = append(model.Warnings,
				fmt.Sprintf("device %q has no integration ID, skipped", rd.Name))
			return nil
		}
		if err := checkDuplicate(model.index, *rd.ID, rd.Name); err != nil {
			return err
		}
		if rd.Area != nil && rd.Area.Name != "" {
			areaName = rd.Area.Name
		}
		dev := &Device{
			ID:         *rd.ID,
			Name:       rd.Name,
			DeviceType: rd.DeviceType,
			AreaName:   areaName,
		}
		for _, rb := range rd.Buttons {
			dev.Buttons = append(dev.Buttons, Button{
				Number:    rb.Number,
				Name:      rb.Name,
				Engraving: rb.Engraving,
			})
		}
		model.index[dev.ID] = dev
		areaFor(areaName).Devices = append(areaFor(areaName).Devices, dev)

		if dev.ID == bridgeDeviceID {
			model.Scenes = append(model.Scenes, scenesFromButtons(dev.Buttons)...)
		}
		return nil
	}

	addZone := func(rz reportZone, areaName string) error {
		if rz.ID == nil {
			model.Warnings = append(model.Warnings,
				fmt.Sprintf("zone %q has no integration ID, skipped", rz.Name))
			return nil
		}
		if err := checkDuplicate(model.index, *rz.ID, rz.Name); err != nil {
			return err
		}
		if rz.Area != nil && rz.Area.Name != "" {
			areaName = rz.Area.Name
		}
		out := &Output{
			ID:         *rz.ID,
			Name:       rz.Name,
			OutputType: rz.OutputType,
			AreaName:   areaName,
		}
		model.index[out.ID] = out
		areaFor(areaName).Outputs = append(areaFor(areaName).Outputs, out)
		return nil
	}

	// Nested form: RadioRA 2 and HomeWorks reports group entries by area.
	for _, ra := range list.Areas {
		for _, rd := range ra.Devices {
			if err := addDevice(rd, ra.Name); err != nil {
				return nil, err
			}
		}
		for _, rz := range ra.Zones {
			if err := addZone(rz, ra.Name); err != nil {
				return nil, err
			}
		}
		for _, rz := range ra.Outputs {
			if err := addZone(rz, ra.Name); err != nil {
				return nil, err
			}
		}
	}

	// Flat form: Caséta bridges list devices and zones at the top level
	// with an Area reference on each entry.
	for _, rd := range list.Devices {
		if err := addDevice(rd, ""); err != nil {
			return nil, err
		}
	}
	for _, rz := range list.Zones {
		if err := addZone(rz, ""); err != nil {
			return nil, err
		}
	}

	return model, nil
}

// checkDuplicate rejects a second claim on an integration ID.
func checkDuplicate(index map[int]Node, id int, name string) error {
	if existing, ok := index[id]; ok {
		return fmt.Errorf("%w: integration ID %d claimed by both %q and %q",
			ErrDuplicateID, id, existing.NodeName(), name)
	}
	return nil
}

// scenesFromButtons extracts user-named scenes from the bridge device's
// buttons. Buttons left at the factory default name ("Button N") are
// unprogrammed and skipped.
func scenesFromButtons(buttons []Button) []Scene {
	var scenes []Scene
	for _, b := range buttons {
		name := b.Name
		if b.Engraving != "" {
			name = b.Engraving
		}
		if name == "" || isDefaultButtonName(name, b.Number) {
			continue
		}
		scenes = append(scenes, Scene{ButtonNumber: b.Number, Name: name})
	}
	return scenes
}

// isDefaultButtonName reports whether name is the factory placeholder
// for button number n.
func isDefaultButtonName(name string, n int) bool {
	return strings.EqualFold(name, "Button "+strconv.Itoa(n))
}
