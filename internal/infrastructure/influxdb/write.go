package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteOutputLevel records an observed output level.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - integrationID: The output's integration ID on the controller
//   - name: Human-readable output name from the integration report
//     (empty when the device model is not loaded)
//   - level: Output level 0-100
func (c *Client) WriteOutputLevel(integrationID int, name string, level float64) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"integration_id": strconv.Itoa(integrationID),
	}
	if name != "" {
		tags["name"] = name
	}

	point := write.NewPoint(
		"output_level",
		tags,
		map[string]interface{}{
			"level": level,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteButtonEvent records a button press or release.
//
// Parameters:
//   - integrationID: The keypad or remote's integration ID
//   - button: The component number of the button
//   - event: "press" or "release"
func (c *Client) WriteButtonEvent(integrationID, button int, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"button_event",
		map[string]string{
			"integration_id": strconv.Itoa(integrationID),
			"button":         strconv.Itoa(button),
		},
		map[string]interface{}{
			"event": event,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
