// Package storage defines the document store contract the social graph runs on.
//
// Profiles live at users/{uid}; follow edges live at users/{uid}/following/{target}
// and users/{uid}/followers/{actor}, each holding {uid, createdAt}.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/bliss/internal/platform/watch"
)

// ErrNotFound indicates a requested document is missing.
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists indicates a document that must be new already exists.
var ErrAlreadyExists = errors.New("document already exists")

// ErrTooManyIDs indicates a GetMany call over MaxGetManyIDs.
var ErrTooManyIDs = errors.New("too many ids in one lookup")

// ErrReadAfterWrite indicates a transaction read issued after a write.
var ErrReadAfterWrite = errors.New("transaction reads must precede writes")

// MaxGetManyIDs caps one id-list lookup.
const MaxGetManyIDs = 10

const (
	usersCollection     = "users"
	followingCollection = "following"
	followersCollection = "followers"
)

// CollectionRef is a slash-separated collection path.
type CollectionRef string

// Users is the profile collection.
func Users() CollectionRef { return usersCollection }

// Following is the set of users uid follows.
func Following(uid string) CollectionRef {
	return CollectionRef(usersCollection + "/" + uid + "/" + followingCollection)
}

// Followers is the set of users following uid.
func Followers(uid string) CollectionRef {
	return CollectionRef(usersCollection + "/" + uid + "/" + followersCollection)
}

// UserDoc is the profile document of uid.
func UserDoc(uid string) DocumentRef { return Users().Doc(uid) }

// Doc returns the document ref for id inside c.
func (c CollectionRef) Doc(id string) DocumentRef {
	return DocumentRef{Collection: c, ID: id}
}

// Path returns the collection path.
func (c CollectionRef) Path() string { return string(c) }

// DocumentRef addresses one document.
type DocumentRef struct {
	Collection CollectionRef
	ID         string
}

// Path returns collection/id.
func (r DocumentRef) Path() string {
	return string(r.Collection) + "/" + r.ID
}

// Valid reports whether both the collection and the id are set and the id
// holds no path separator.
func (r DocumentRef) Valid() bool {
	return r.Collection != "" && r.ID != "" && !strings.Contains(r.ID, "/")
}

// Fields holds document data.
type Fields map[string]any

// Document is one document snapshot.
type Document struct {
	Ref        DocumentRef
	Exists     bool
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// ID returns the document id.
func (d Document) ID() string { return d.Ref.ID }

// WriteKind selects a write operation.
type WriteKind int

const (
	// WriteSet stores fields, replacing or merging.
	WriteSet WriteKind = iota
	// WriteDelete removes the document.
	WriteDelete
)

// Write is one mutation inside an atomic batch.
type Write struct {
	Kind   WriteKind
	Ref    DocumentRef
	Fields Fields
	Merge  bool
}

// Set writes fields to ref. With merge only the given top-level fields change.
func Set(ref DocumentRef, fields Fields, merge bool) Write {
	return Write{Kind: WriteSet, Ref: ref, Fields: fields, Merge: merge}
}

// Delete removes ref. Deleting a missing document is not an error.
func Delete(ref DocumentRef) Write {
	return Write{Kind: WriteDelete, Ref: ref}
}

// Transaction is a read-then-write unit of work. All reads must happen before
// the first write; the writes commit together or not at all.
type Transaction interface {
	Get(ref DocumentRef) (Document, error)
	List(coll CollectionRef) ([]Document, error)
	Set(ref DocumentRef, fields Fields, merge bool) error
	Delete(ref DocumentRef) error
}

// DocumentStore is the remote document database.
type DocumentStore interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, ref DocumentRef) (Document, error)
	// GetMany returns the existing documents among ids, at most MaxGetManyIDs.
	GetMany(ctx context.Context, coll CollectionRef, ids []string) ([]Document, error)
	// List returns every document of coll ordered by id.
	List(ctx context.Context, coll CollectionRef) ([]Document, error)
	// Commit applies writes as one atomic batch.
	Commit(ctx context.Context, writes ...Write) error
	// Update merges fields into an existing document; ErrNotFound if absent.
	Update(ctx context.Context, ref DocumentRef, fields Fields) error
	// RunTransaction runs fn and commits its writes atomically. No retries
	// are attempted on conflict beyond what the backend itself does.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
	// WatchDocument delivers the document now and after every change.
	WatchDocument(ref DocumentRef, onSnapshot func(Document), onError func(error)) watch.CancelFunc
	// WatchCollection delivers the collection now and after every change.
	WatchCollection(coll CollectionRef, onSnapshot func([]Document), onError func(error)) watch.CancelFunc
	Close() error
}
