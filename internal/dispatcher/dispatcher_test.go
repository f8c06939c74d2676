// Copyright 2025 James Ross
package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seo-batch/job-engine/internal/broker"
)

func TestHandleDropsMalformedMessage(t *testing.T) {
	d := &Dispatcher{}
	err := d.Handle(context.Background(), broker.Message{})
	require.NoError(t, err)
}
