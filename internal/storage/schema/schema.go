// Package schema declares the crawler's relational schema once and renders
// it for each SQL dialect.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// Kind is a dialect-neutral column type.
type Kind int

// Column kinds.
const (
	Integer Kind = iota
	Text
	Real
)

// Column describes one column and its documentation.
type Column struct {
	Name        string
	Kind        Kind
	PrimaryKey  bool
	ForeignKey  bool
	Description string
}

// Table describes one table.
type Table struct {
	Name    string
	Columns []Column
	// Unique lists columns carrying a uniqueness constraint.
	Unique []string
	// Index lists the columns of the table's lookup index.
	Index []string
}

// Dialect renders types and placeholders for one database.
type Dialect interface {
	Type(Kind) string
	Placeholder(n int) string
}

func pk(name string, kind Kind, desc string) Column {
	return Column{Name: name, Kind: kind, PrimaryKey: true, Description: desc}
}

func fk(name string, kind Kind, desc string) Column {
	return Column{Name: name, Kind: kind, ForeignKey: true, Description: desc}
}

func col(name string, kind Kind, desc string) Column {
	return Column{Name: name, Kind: kind, Description: desc}
}

func lookupTable(table, idCol, nameCol, what string) Table {
	return Table{
		Name: table,
		Columns: []Column{
			pk(idCol, Integer, "Surrogate id of the "+what+"; 0 is the null sentinel"),
			col(nameCol, Text, "Name of the "+what),
		},
		Index: []string{idCol},
	}
}

func junction(table string, child Column, extra ...Column) Table {
	cols := append([]Column{fk("review_id", Text, "Site id of the review")}, child)
	cols = append(cols, extra...)
	return Table{Name: table, Columns: cols, Index: []string{"review_id", child.Name}}
}

// Tables is the full schema in creation order.
var Tables = []Table{
	lookupTable("entities", "entity_id", "entity", "topic entity"),
	lookupTable("genres", "genre_id", "genre", "genre"),
	lookupTable("keywords", "keyword_id", "keyword", "keyword"),
	lookupTable("labels", "label_id", "label", "record label"),
	lookupTable("author_types", "author_type_id", "author_type", "author title"),
	{
		Name: "urls",
		Columns: []Column{
			pk("url_id", Integer, "Surrogate id of the URL; 0 is the null sentinel"),
			col("url", Text, "Absolute URL"),
			col("year", Integer, "Sitemap year the URL was listed under"),
			col("month", Integer, "Sitemap month the URL was listed under"),
			col("week", Integer, "Sitemap week the URL was listed under"),
			col("is_review", Integer, "1 when the path contains a reviews segment"),
			col("is_album", Integer, "1 when the path contains an albums segment"),
			col("is_author", Integer, "1 when the path contains a staff segment"),
			col("is_artist", Integer, "1 when the path contains an artists segment"),
		},
		Index: []string{"url_id"},
	},
	{
		Name: "albums",
		Columns: []Column{
			pk("album_id", Text, "Site id of the album"),
			col("album", Text, "Album title"),
			col("publisher", Text, "Publisher as listed on the review"),
			col("release_year", Integer, "Release year"),
			col("pitchfork_score", Integer, "Rating scaled to 0-100"),
			col("is_best_new_music", Integer, "1 when tagged Best New Music"),
			col("is_best_new_reissue", Integer, "1 when tagged Best New Reissue"),
		},
		Index: []string{"album_id"},
	},
	{
		Name: "artists",
		Columns: []Column{
			pk("artist_id", Integer, "Surrogate id of the artist; 0 is the null sentinel"),
			col("artist", Text, "Artist name"),
			fk("url_id", Integer, "Artist page URL"),
		},
		Index: []string{"artist_id"},
	},
	{
		Name: "authors",
		Columns: []Column{
			pk("author_id", Text, "Site id of the author"),
			col("author", Text, "Author display name"),
			fk("url_id", Integer, "Author profile URL"),
		},
		Index: []string{"author_id"},
	},
	{
		Name: "author_bios",
		Columns: []Column{
			pk("author_id", Text, "Site id of the author"),
			col("date_pub", Text, "Publish date of the profile page"),
			col("revisions", Integer, "Revision count of the profile page"),
			col("bio", Text, "Biography text"),
		},
		Unique: []string{"author_id"},
		Index:  []string{"author_id"},
	},
	{
		Name: "author_type_evolution",
		Columns: []Column{
			fk("author_id", Text, "Site id of the author"),
			fk("author_type1_id", Integer, "Title from the contributor header"),
			fk("author_type2_id", Integer, "Title from the content metadata"),
			col("as_of_date", Text, "When the titles were observed"),
		},
		Index: []string{"author_id", "as_of_date"},
	},
	{
		Name: "reviews",
		Columns: []Column{
			pk("review_id", Text, "Site id of the review"),
			col("revisions", Integer, "Revision count of the review page"),
			fk("url_id", Integer, "Review page URL"),
			col("body", Text, "Review text"),
			col("description", Text, "Review summary"),
			col("date_pub", Text, "Publish timestamp"),
			col("date_mod", Text, "Last modification timestamp"),
		},
		Index: []string{"review_id"},
	},
	junction("review_albums", fk("album_id", Text, "Site id of the album")),
	junction("review_labels", fk("label_id", Integer, "Label of the reviewed release")),
	junction("review_artists", fk("artist_id", Integer, "Reviewed artist")),
	junction("review_authors", fk("author_id", Text, "Review author; 0 when unknown")),
	junction("review_keywords", fk("keyword_id", Integer, "Keyword"), col("score", Real, "Keyword relevance")),
	junction("review_entities", fk("entity_id", Integer, "Topic entity"), col("score", Real, "Entity relevance")),
	junction("review_artist_genres",
		fk("artist_id", Integer, "Reviewed artist"),
		fk("genre_id", Integer, "Genre of the artist in this review"),
	),
	{
		Name: "scraping_events",
		Columns: []Column{
			col("timestamp", Text, "When the event was written"),
			fk("url_id", Integer, "URL the event refers to"),
			col("process", Text, "Step that produced the event"),
			col("success", Integer, "1 on success, 0 on failure"),
			col("message", Text, "Error detail"),
		},
		Index: []string{"url_id", "timestamp"},
	},
	{
		Name: MetadataTable,
		Columns: []Column{
			col("table_name", Text, "Documented table"),
			col("column_name", Text, "Documented column"),
			col("is_primary_key", Integer, "1 when the column identifies the row"),
			col("is_foreign_key", Integer, "1 when the column references another table"),
			col("description", Text, "Column description"),
		},
		Index: []string{"table_name", "column_name"},
	},
}

// MetadataTable documents every column of the schema.
const MetadataTable = "metadata"

// Sentinel is a row seeded into a fresh store.
type Sentinel struct {
	Table  string
	Values []any
}

// Site ids of the two built-in authors.
const (
	NoAuthorID        = "0"
	SiteStaffAuthorID = "592604b17fd06e5349102f34"
)

// Sentinels are the null rows that keep every foreign key satisfiable.
var Sentinels = []Sentinel{
	{"entities", []any{0, nil}},
	{"genres", []any{0, nil}},
	{"keywords", []any{0, nil}},
	{"labels", []any{0, nil}},
	{"author_types", []any{0, nil}},
	{"urls", []any{0, nil, nil, nil, nil, nil, nil, nil, nil}},
	{"artists", []any{0, nil, 0}},
	{"authors", []any{NoAuthorID, "Pitchfork_no_id", 0}},
	{"authors", []any{SiteStaffAuthorID, "Pitchfork_with_id", 0}},
}

// Lookup returns the table named name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// ColumnNames lists the table's columns in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateStatements renders the DDL for every table and index.
func CreateStatements(d Dialect) []string {
	stmts := make([]string, 0, len(Tables)*2)
	for _, t := range Tables {
		defs := make([]string, 0, len(t.Columns)+1)
		for _, c := range t.Columns {
			defs = append(defs, c.Name+" "+d.Type(c.Kind))
		}
		if len(t.Unique) > 0 {
			defs = append(defs, "UNIQUE ("+strings.Join(t.Unique, ", ")+")")
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", ")))
		if len(t.Index) > 0 {
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s ON %s (%s)", t.Name, t.Name, strings.Join(t.Index, ", "),
			))
		}
	}
	return stmts
}

// DropStatements renders DROP TABLE for every table, dependents first.
func DropStatements() []string {
	stmts := make([]string, 0, len(Tables))
	for i := len(Tables) - 1; i >= 0; i-- {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+Tables[i].Name)
	}
	return stmts
}

// MetadataRows returns one metadata row per column of every table.
func MetadataRows() [][]any {
	var rows [][]any
	for _, t := range Tables {
		for _, c := range t.Columns {
			rows = append(rows, []any{t.Name, c.Name, flag(c.PrimaryKey), flag(c.ForeignKey), c.Description})
		}
	}
	return rows
}

// Insert renders a parameterized INSERT for table and columns. When conflict
// is non-empty the statement replaces the conflicting row instead.
func Insert(d Dialect, table string, columns []string, conflict []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = d.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(marks, ", "))
	if len(conflict) == 0 {
		return stmt
	}
	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if slices.Contains(conflict, c) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	if len(updates) == 0 {
		return stmt + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", "))
	}
	return stmt + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(updates, ", "))
}

// Known reports whether table is part of the schema, guarding the table
// names interpolated into statements.
func Known(table string) bool {
	_, ok := Lookup(table)
	return ok
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Source names the table and columns a registry namespace is seeded from.
type Source struct {
	Table string
	ID    string
	Key   string
}

// NamespaceSources maps every registry namespace to its backing table.
var NamespaceSources = map[registry.Namespace]Source{
	registry.URLs:        {"urls", "url_id", "url"},
	registry.Artists:     {"artists", "artist_id", "artist"},
	registry.Genres:      {"genres", "genre_id", "genre"},
	registry.Labels:      {"labels", "label_id", "label"},
	registry.Keywords:    {"keywords", "keyword_id", "keyword"},
	registry.Entities:    {"entities", "entity_id", "entity"},
	registry.AuthorTypes: {"author_types", "author_type_id", "author_type"},
}

// SetSources maps every registry key set to its backing table and key column.
var SetSources = map[registry.SetName]Source{
	registry.Albums:  {Table: "albums", Key: "album_id"},
	registry.Authors: {Table: "authors", Key: "author_id"},
}

// NamespaceQuery selects the key/id pairs of a namespace, skipping sentinels.
func NamespaceQuery(src Source) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL", src.Key, src.ID, src.Table, src.Key)
}

// SetQuery selects the distinct keys of a key set.
func SetQuery(src Source) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", src.Key, src.Table, src.Key)
}

// ReviewTargetsQuery selects every album review page.
const ReviewTargetsQuery = `SELECT url_id, url FROM urls
WHERE is_review = 1 AND is_album = 1 AND url IS NOT NULL
ORDER BY url_id`

// AuthorTargetsQuery selects every author with a known profile page.
const AuthorTargetsQuery = `SELECT DISTINCT a.author_id, u.url_id, u.url
FROM authors a JOIN urls u ON a.url_id = u.url_id
WHERE u.url IS NOT NULL
ORDER BY a.author_id`
