package migrate

// AllowSameEngine lets tests migrate between two SQLite files.
func AllowSameEngine() Option {
	return func(m *Migrator) { m.allowSameEngine = true }
}

// WithAfterInsert sets a hook called after each committed row. Returning an
// error aborts the run as if the process had been killed.
func WithAfterInsert(fn func(table string, copied int) error) Option {
	return func(m *Migrator) { m.afterInsert = fn }
}
