package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strongdm/snagbridge/pkg/snag"
)

func TestNoopSink_AcceptsEverything(t *testing.T) {
	sink := New()
	ctx := context.Background()

	assert.NoError(t, sink.Write(ctx, snag.Report{Category: "db", Message: "boom"}))
	assert.NoError(t, sink.Flush(ctx))
	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Write(ctx, snag.Report{}), "writes after close are still discarded")
}
