package crawler

import "fmt"

// Event processes written to the scraping-event log.
const (
	ProcessConnectionFailed    = "Connection failed"
	ProcessConnectionAbandoned = "Couldn't establish connection"
	ProcessDocumentParse       = "Failed at parsing document"
	ProcessPreloadParse        = "Failed at parsing json preload data"
	ProcessLinkedDataParse     = "Failed at parsing json linked data"
	ProcessReviewScraped       = "Scraped album review"
	ProcessAuthorScraped       = "Scraped author page"
	ProcessSitemapScraped      = "Scraped sitemap year"
	ProcessUnhandled           = "Unhandled failure"
)

// ProcessSectionParse names the failure of one extraction section.
func ProcessSectionParse(section string) string {
	return fmt.Sprintf("Failed at parsing %s data", section)
}

// ProcessInsert names the failure to write a record into table.
func ProcessInsert(table string) string {
	return fmt.Sprintf("Failed at inserting data into %s", table)
}

// ProcessSitemapYear names the failure to scrape one sitemap year.
func ProcessSitemapYear(year int) string {
	return fmt.Sprintf("Error scraping year %d", year)
}
