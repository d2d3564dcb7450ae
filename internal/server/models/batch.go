package models

type BatchOp string

const (
	BatchInsert BatchOp = "insert"
	BatchUpdate BatchOp = "update"
	BatchDelete BatchOp = "delete"
)

type BatchItem struct {
	Op           BatchOp
	Identity     EntryIdentity
	Precondition Precondition
	Categories   []Category
	Content      []byte
	ContentType  string
	Author       string
}

// BatchResult holds either the new record or the item's failure.
type BatchResult struct {
	Index    int
	Identity EntryIdentity
	Record   *EntryRecord
	Err      error
}
