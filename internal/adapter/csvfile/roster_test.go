package csvfile

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rosterRow builds a 20-column roster row with the fields the loader reads.
func rosterRow(name, street, city, zip, website string) []string {
	row := make([]string, minRosterColumns)
	for i := range row {
		row[i] = "x"
	}
	row[colName] = name
	row[colStreet] = street
	row[colCity] = city
	row[colZIP] = zip
	row[colWebsite] = website
	return row
}

func rosterCSV(t *testing.T, rows ...[]string) string {
	t.Helper()
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	require.NoError(t, w.WriteAll(rows))
	return sb.String()
}

func TestRosterLoader_Load(t *testing.T) {
	header := rosterRow("Library Name", "Street", "City", "ZIP", "Website")
	input := rosterCSV(t,
		header,
		rosterRow("Fresno County Public Library", "2420 Mariposa St", "Fresno", "93721", "https://fresnolibrary.org"),
		rosterRow("Davis Branch", " 315 E 14th St ", "Davis", "95616", "http://yolocountylibrary.org"),
		rosterRow("No Website", "1 Main St", "Nowhere", "90000", ""),
		rosterRow("Bad Website", "1 Main St", "Nowhere", "90000", "www.example.org"),
		rosterRow("No Address", "", "", "90000", "https://noaddress.org"),
		rosterRow("Fresno County Public Library", "Other St", "Fresno", "93722", "https://duplicate.org"),
		[]string{"Too Short", "a", "b"},
		rosterRow("City Only", "", "Eureka", "95501", "https://humboldtgov.org/library"),
	)

	records, stats, err := NewRosterLoader("CA", discardLogger()).Load(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []domain.LibraryRecord{
		{Name: "Fresno County Public Library", URL: "https://fresnolibrary.org", Address: "2420 Mariposa St, Fresno, CA 93721"},
		{Name: "Davis Branch", URL: "http://yolocountylibrary.org", Address: "315 E 14th St, Davis, CA 95616"},
		{Name: "City Only", URL: "https://humboldtgov.org/library", Address: ", Eureka, CA 95501"},
	}, records)

	assert.Equal(t, RosterStats{Rows: 9, Loaded: 3, Short: 1, NoWebsite: 3, NoAddress: 1, Duplicate: 1}, stats)
	assert.Equal(t, 6, stats.Skipped())
}

func TestRosterLoader_StateAndBOM(t *testing.T) {
	row := rosterRow("\ufeffMultnomah County Library", "801 SW 10th Ave", "Portland", "97205", "https://multcolib.org")

	records, _, err := NewRosterLoader("OR", discardLogger()).Load(strings.NewReader(rosterCSV(t, row)))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Multnomah County Library", records[0].Name)
	assert.Equal(t, "801 SW 10th Ave, Portland, OR 97205", records[0].Address)
}

func TestRosterLoader_Empty(t *testing.T) {
	records, stats, err := NewRosterLoader("CA", discardLogger()).Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, stats.Rows)
}

func TestRosterLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.csv")
	content := rosterCSV(t, rosterRow("Oakland Public Library", "125 14th St", "Oakland", "94612", "https://oaklandlibrary.org"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, stats, err := NewRosterLoader("CA", discardLogger()).LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, stats.Loaded)

	_, _, err = NewRosterLoader("CA", discardLogger()).LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open roster")
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "1 Main St, Davis, CA 95616", FormatAddress("1 Main St", "Davis", "CA", "95616"))
	assert.Equal(t, "1 Main St, Davis, CA", FormatAddress("1 Main St", "Davis", "CA", ""))
}

func TestRosterFile_Libraries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.csv")
	content := rosterCSV(t,
		rosterRow("Library Name", "Street", "City", "ZIP", "Website"),
		rosterRow("Oakland Public Library", "125 14th St", "Oakland", "94612", "https://oaklandlibrary.org"),
	)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := NewRosterLoader("CA", discardLogger()).File(path).Libraries()
	require.NoError(t, err)
	assert.Equal(t, []domain.LibraryRecord{
		{Name: "Oakland Public Library", URL: "https://oaklandlibrary.org", Address: "125 14th St, Oakland, CA 94612"},
	}, records)

	_, err = NewRosterLoader("CA", discardLogger()).File(filepath.Join(t.TempDir(), "nope.csv")).Libraries()
	require.Error(t, err)
}
