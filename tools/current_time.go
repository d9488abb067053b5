package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA time zone such as Europe/Berlin (defaults to UTC)."`
}

type CurrentTimeOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

var CurrentTimeDefinition = ToolDefinition{
	Name:        "current_time",
	Description: "Return the current date and time, optionally in a given IANA time zone.",
	InputSchema: GenerateSchema[CurrentTimeInput](),
	Function:    CurrentTime(time.Now),
}

// CurrentTime returns an executor reading the clock from now.
func CurrentTime(now func() time.Time) Executor {
	return func(_ context.Context, input json.RawMessage) (any, error) {
		var in CurrentTimeInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		t := now().In(loc)
		return CurrentTimeOutput{Time: t.Format(time.RFC3339), Timezone: tz, Weekday: t.Weekday().String()}, nil
	}
}
