package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/aerolab/flighttrials/pkg/streaming"
)

var _ link.Link = (*Vehicle)(nil)

// Vehicle is the link to one vehicle behind the bridge.
type Vehicle struct {
	client *Client
	uri    string
}

func (v *Vehicle) URI() string {
	return v.uri
}

func (v *Vehicle) SendPositionSetpoint(ctx context.Context, sp core.Setpoint) error {
	_, err := v.client.request(ctx, streaming.TypeSetpoint, v.uri, streaming.SetpointPayload{Setpoint: sp})
	return err
}

func (v *Vehicle) TakeOff(ctx context.Context, height float64, duration time.Duration) error {
	_, err := v.client.request(ctx, streaming.TypeTakeOff, v.uri, streaming.TakeOffPayload{
		Height:     height,
		DurationMs: streaming.Millis(duration),
	})
	return err
}

func (v *Vehicle) Land(ctx context.Context, height float64, duration time.Duration) error {
	_, err := v.client.request(ctx, streaming.TypeLand, v.uri, streaming.LandPayload{
		Height:     height,
		DurationMs: streaming.Millis(duration),
	})
	return err
}

func (v *Vehicle) GoTo(ctx context.Context, sp core.Setpoint, duration time.Duration, relative bool) error {
	_, err := v.client.request(ctx, streaming.TypeGoTo, v.uri, streaming.GoToPayload{
		Setpoint:   sp,
		DurationMs: streaming.Millis(duration),
		Relative:   relative,
	})
	return err
}

func (v *Vehicle) Stop(ctx context.Context) error {
	_, err := v.client.request(ctx, streaming.TypeStop, v.uri, nil)
	return err
}

func (v *Vehicle) SetParam(ctx context.Context, name string, value float64) error {
	_, err := v.client.request(ctx, streaming.TypeParamSet, v.uri, streaming.ParamPayload{Name: name, Value: value})
	return err
}

// GetParam returns the value carried by the bridge's ack.
func (v *Vehicle) GetParam(ctx context.Context, name string) (float64, error) {
	ack, err := v.client.request(ctx, streaming.TypeParamGet, v.uri, streaming.ParamPayload{Name: name})
	if err != nil {
		return 0, err
	}
	return ack.Value, nil
}

func (v *Vehicle) Subscribe(ctx context.Context, channels []string, period time.Duration) (link.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("no telemetry channels requested")
	}
	sub, err := v.client.subscribe(ctx, v.uri, channels, period)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
