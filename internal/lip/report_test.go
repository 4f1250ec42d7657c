package lip

import (
	"errors"
	"strings"
	"testing"
)

const nestedReport = `{
  "LIPIdList": {
    "Areas": [
      {
        "Name": "Living Room",
        "Devices": [
          {
            "Name": "Smart Bridge",
            "ID": 1,
            "DeviceType": "SmartBridge",
            "Buttons": [
              {"Number": 1, "Name": "Movie Night"},
              {"Number": 2, "Name": "Button 2"},
              {"Number": 3, "Name": "", "Engraving": "All Off"}
            ]
          },
          {
            "Name": "Pico Remote",
            "ID": 5,
            "DeviceType": "Pico3ButtonRaiseLower"
          }
        ],
        "Zones": [
          {"Name": "Ceiling Lights", "ID": 2, "OutputType": "Dimmed"}
        ]
      },
      {
        "Name": "Bedroom",
        "Outputs": [
          {"Name": "Bedside Lamp", "ID": 7, "OutputType": "Switched"}
        ]
      }
    ]
  }
}`

const flatReport = `{
  "LIPIdList": {
    "Devices": [
      {"Name": "Bridge", "ID": 1, "DeviceType": "SmartBridge", "Area": {"Name": "Hall"}}
    ],
    "Zones": [
      {"Name": "Hall Light", "ID": 3, "OutputType": "Dimmed", "Area": {"Name": "Hall"}},
      {"Name": "Porch Light", "ID": 4, "OutputType": "Switched"}
    ]
  }
}`

func TestParseIntegrationReportNested(t *testing.T) {
	model, err := ParseIntegrationReport([]byte(nestedReport))
	if err != nil {
		t.Fatalf("ParseIntegrationReport() unexpected error: %v", err)
	}

	if len(model.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", model.Warnings)
	}
	if model.NodeCount() != 4 {
		t.Errorf("node count = %d, want 4", model.NodeCount())
	}
	if len(model.Areas) != 2 {
		t.Fatalf("areas = %d, want 2", len(model.Areas))
	}

	living := model.Areas[0]
	if living.Name != "Living Room" {
		t.Errorf("area name = %q, want Living Room", living.Name)
	}
	if len(living.Devices) != 2 || len(living.Outputs) != 1 {
		t.Errorf("living room has %d devices, %d outputs; want 2, 1",
			len(living.Devices), len(living.Outputs))
	}

	node, ok := model.Lookup(2)
	if !ok {
		t.Fatal("Lookup(2) not found")
	}
	out, ok := node.(*Output)
	if !ok {
		t.Fatalf("Lookup(2) = %T, want *Output", node)
	}
	if out.Name != "Ceiling Lights" || out.OutputType != "Dimmed" {
		t.Errorf("output = %+v", out)
	}

	node, ok = model.Lookup(5)
	if !ok {
		t.Fatal("Lookup(5) not found")
	}
	dev, ok := node.(*Device)
	if !ok {
		t.Fatalf("Lookup(5) = %T, want *Device", node)
	}
	if dev.DeviceType != "Pico3ButtonRaiseLower" || dev.AreaName != "Living Room" {
		t.Errorf("device = %+v", dev)
	}

	if _, ok := model.Lookup(99); ok {
		t.Error("Lookup(99) found a node, want miss")
	}
}

func TestParseIntegrationReportScenes(t *testing.T) {
	model, err := ParseIntegrationReport([]byte(nestedReport))
	if err != nil {
		t.Fatalf("ParseIntegrationReport() unexpected error: %v", err)
	}

	// Button 2 keeps its factory name and is not a scene; button 3 is
	// named via engraving.
	if len(model.Scenes) != 2 {
		t.Fatalf("scenes = %v, want 2", model.Scenes)
	}
	if model.Scenes[0].Name != "Movie Night" || model.Scenes[0].ButtonNumber != 1 {
		t.Errorf("scene[0] = %+v", model.Scenes[0])
	}
	if model.Scenes[1].Name != "All Off" || model.Scenes[1].ButtonNumber != 3 {
		t.Errorf("scene[1] = %+v", model.Scenes[1])
	}
}

func TestParseIntegrationReportFlat(t *testing.T) {
	model, err := ParseIntegrationReport([]byte(flatReport))
	if err != nil {
		t.Fatalf("ParseIntegrationReport() unexpected error: %v", err)
	}

	if model.NodeCount() != 3 {
		t.Errorf("node count = %d, want 3", model.NodeCount())
	}

	node, ok := model.Lookup(3)
	if !ok {
		t.Fatal("Lookup(3) not found")
	}
	if node.(*Output).AreaName != "Hall" {
		t.Errorf("area = %q, want Hall", node.(*Output).AreaName)
	}

	// No Area reference groups under "Unassigned".
	node, ok = model.Lookup(4)
	if !ok {
		t.Fatal("Lookup(4) not found")
	}
	if node.(*Output).AreaName != "Unassigned" {
		t.Errorf("area = %q, want Unassigned", node.(*Output).AreaName)
	}
}

func TestParseIntegrationReportMissingID(t *testing.T) {
	report := `{
	  "LIPIdList": {
	    "Zones": [
	      {"Name": "Ghost Light", "OutputType": "Dimmed"},
	      {"Name": "Real Light", "ID": 2, "OutputType": "Dimmed"}
	    ]
	  }
	}`

	model, err := ParseIntegrationReport([]byte(report))
	if err != nil {
		t.Fatalf("ParseIntegrationReport() unexpected error: %v", err)
	}

	if model.NodeCount() != 1 {
		t.Errorf("node count = %d, want 1", model.NodeCount())
	}
	if len(model.Warnings) != 1 || !strings.Contains(model.Warnings[0], "Ghost Light") {
		t.Errorf("warnings = %v, want one naming Ghost Light", model.Warnings)
	}
}

func TestParseIntegrationReportDuplicateID(t *testing.T) {
	report := `{
	  "LIPIdList": {
	    "Zones": [
	      {"Name": "Light A", "ID": 2, "OutputType": "Dimmed"},
	      {"Name": "Light B", "ID": 2, "OutputType": "Dimmed"}
	    ]
	  }
	}`

	_, err := ParseIntegrationReport([]byte(report))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("ParseIntegrationReport() error = %v, want ErrDuplicateID", err)
	}
}

func TestParseIntegrationReportMissingList(t *testing.T) {
	model, err := ParseIntegrationReport([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseIntegrationReport() unexpected error: %v", err)
	}
	if model.NodeCount() != 0 {
		t.Errorf("node count = %d, want 0", model.NodeCount())
	}
	if len(model.Warnings) != 1 {
		t.Errorf("warnings = %v, want one about the missing list", model.Warnings)
	}
}

func TestParseIntegrationReportInvalidJSON(t *testing.T) {
	_, err := ParseIntegrationReport([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedReport) {
		t.Fatalf("ParseIntegrationReport() error = %v, want ErrMalformedReport", err)
	}
}
