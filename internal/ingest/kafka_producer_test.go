package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishLocationKeysByVehicle(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w)
	require.NoError(t, p.PublishLocation(context.Background(), models.LocationUpdate{VehicleID: "airbear-03", Lat: 42.09, Lng: -75.96}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "airbear-03", string(w.msgs[0].Key))

	var got models.LocationUpdate
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.False(t, got.ReportedAt.IsZero(), "report time defaults to now")
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishLocationWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaProducerWithWriter(&fakeWriter{err: boom})
	err := p.PublishLocation(context.Background(), models.LocationUpdate{VehicleID: "a"})
	assert.ErrorIs(t, err, boom)
}

func TestDecodeLocation(t *testing.T) {
	u, err := DecodeLocation([]byte(`{"vehicle_id":"airbear-01","lat":42.1,"lng":-75.9}`))
	require.NoError(t, err)
	assert.Equal(t, "airbear-01", u.VehicleID)

	_, err = DecodeLocation([]byte(`{"lat":1,"lng":2}`))
	assert.Error(t, err)
	_, err = DecodeLocation([]byte(`{"vehicle_id":"x","lat":91,"lng":2}`))
	assert.Error(t, err)
	_, err = DecodeLocation([]byte(`not json`))
	assert.Error(t, err)
}
