package core

// Relation locates a database object and renders its dialect-quoted name.
// Implementations live with the relation builders; templates receive
// relations as the return value of ref() and source().
type Relation interface {
	// Database returns the database/catalog component, possibly empty.
	Database() string
	// Schema returns the schema component.
	Schema() string
	// Identifier returns the object name component.
	Identifier() string
	// Render returns the fully qualified, quoted relation name as it should
	// appear in SQL for the owning dialect.
	Render() string
}
