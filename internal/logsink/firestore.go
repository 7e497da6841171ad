package logsink

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/documentocr/internal/models"
)

// Firestore appends each record as a new document in a collection.
type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{client: client, collection: collection}
}

func (f *Firestore) Append(ctx context.Context, rec models.LogRecord) error {
	if _, _, err := f.client.Collection(f.collection).Add(ctx, rec); err != nil {
		return fmt.Errorf("failed to add log document to %s: %w", f.collection, err)
	}
	return nil
}
