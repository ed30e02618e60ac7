package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

const (
	encodeColumn     = "column"
	encodeNoHeader   = "no-header"
	encodeJsonPretty = "json"
	encodeJsonRaw    = "json-raw"
)

const localTimeFormat = "2006-01-02 15:04:05 MST"

func showDevices(out io.Writer, format string, devices []types.DeviceSummary) error {
	switch format {
	case encodeJsonPretty:
		b, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	case encodeJsonRaw:
		b, err := json.Marshal(devices)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	case encodeColumn, encodeNoHeader:
		table := tablewriter.NewWriter(out)
		table.SetBorders(tablewriter.Border{
			Left:   true,
			Right:  true,
			Top:    false,
			Bottom: false,
		})
		table.SetAutoWrapText(false)
		if format != encodeNoHeader {
			table.SetHeader([]string{"Device ID", "Readings", "First Reading", "Last Reading"})
		}
		for _, d := range devices {
			table.Append([]string{
				d.DeviceID,
				strconv.FormatInt(d.ReadingCount, 10),
				d.FirstReading.In(time.Local).Format(localTimeFormat),
				d.LastReading.In(time.Local).Format(localTimeFormat),
			})
		}
		table.Render()
		return nil

	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
