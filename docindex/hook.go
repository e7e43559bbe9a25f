package docindex

type (
	// ChangeHook observe every mutating document operation of a Writer. the
	// documents passed are private copies; BeforeReplace may modify doc and
	// the modified document is what gets stored. a returned error aborts the
	// operation
	ChangeHook interface {
		BeforeAdd(w *Writer, doc *Document) error

		BeforeReplace(w *Writer, old, doc *Document) error

		BeforeDelete(w *Writer, doc *Document) error

		// AfterCommit called once a commit was published
		AfterCommit() error
	}
)
