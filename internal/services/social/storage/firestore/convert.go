package firestore

import (
	"cloud.google.com/go/firestore"
	"github.com/louisbranch/bliss/internal/services/social/storage"
)

func toFirestoreFields(fields storage.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = toFirestoreValue(value)
	}
	return out
}

func toFirestoreValue(value any) any {
	switch v := value.(type) {
	case storage.Incrementer:
		return firestore.Increment(v.Delta)
	case nil:
		return nil
	}
	if storage.IsServerTimestamp(value) {
		return firestore.ServerTimestamp
	}
	return value
}

func fromSnapshots(coll storage.CollectionRef, snaps []*firestore.DocumentSnapshot) []storage.Document {
	docs := make([]storage.Document, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		docs = append(docs, fromSnapshot(coll, snap))
	}
	return docs
}

func fromSnapshot(coll storage.CollectionRef, snap *firestore.DocumentSnapshot) storage.Document {
	if snap == nil || snap.Ref == nil {
		return storage.Document{Ref: coll.Doc("")}
	}
	doc := storage.Document{Ref: coll.Doc(snap.Ref.ID), Exists: snap.Exists()}
	if !doc.Exists {
		return doc
	}
	doc.Fields = fromFirestoreData(snap.Data())
	doc.CreateTime = snap.CreateTime.UTC()
	doc.UpdateTime = snap.UpdateTime.UTC()
	return doc
}

// fromFirestoreData maps decoded Firestore values onto the stored value space.
// Values outside it (geo points, references) pass through unchanged.
func fromFirestoreData(data map[string]any) storage.Fields {
	fields := make(storage.Fields, len(data))
	for key, value := range data {
		if normalized, err := storage.NormalizeValue(value); err == nil {
			fields[key] = normalized
		} else {
			fields[key] = value
		}
	}
	return fields
}
