package memory_test

import (
	"context"
	"testing"

	"github.com/aescanero/grantflow/pkg/adapters/documents/memory"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	src := memory.NewSource()
	src.Put("rfp-42", "Community health RFP", map[string]string{"funder": "county"})

	doc, err := src.Fetch(context.Background(), "rfp-42")
	require.NoError(t, err)
	assert.Equal(t, "rfp-42", doc.ID)
	assert.Equal(t, "Community health RFP", doc.Text)
	assert.Equal(t, "county", doc.Metadata["funder"])

	doc.Metadata["funder"] = "changed"
	again, err := src.Fetch(context.Background(), "rfp-42")
	require.NoError(t, err)
	assert.Equal(t, "county", again.Metadata["funder"])

	_, err = src.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.False(t, domain.IsRetryable(err))
}
