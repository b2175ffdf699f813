package timeline

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, st *Stream) ([]Record, error) {
	t.Helper()
	var (
		records []Record
		last    error
	)
	for rec, err := range st.Records() {
		if err != nil {
			last = err
			break
		}
		records = append(records, rec)
	}
	return records, last
}

func TestStreamMatchesBufferedParse(t *testing.T) {
	for _, fixture := range []string{"testdata/android.json", "testdata/iphone.json"} {
		t.Run(fixture, func(t *testing.T) {
			data := readFixture(t, fixture)
			p := NewParser()

			want, wantSummary, err := p.Parse(data, "alice")
			require.NoError(t, err)

			readers := map[string]io.Reader{
				"bytes":    bytes.NewReader(data),
				"one byte": iotest.OneByteReader(bytes.NewReader(data)),
			}
			for name, r := range readers {
				st := p.NewStream(r, "alice")
				got, err := collect(t, st)
				require.NoError(t, err, name)
				require.Equal(t, want, got, name)
				require.Equal(t, wantSummary, st.Summary(), name)
			}
		})
	}
}

func TestStreamDialect(t *testing.T) {
	st := NewParser().NewStream(strings.NewReader(aliceDoc), "alice")
	require.Equal(t, DialectUnknown, st.Dialect())
	records, err := collect(t, st)
	require.NoError(t, err)
	require.Len(t, records, 1)
	requireAliceVisit(t, records[0])
	require.Equal(t, DialectAndroid, st.Dialect())
}

func TestStreamUnknownFirstToken(t *testing.T) {
	for _, input := range []string{`"just a string"`, `42`, ``, "   \n"} {
		st := NewParser().NewStream(strings.NewReader(input), "alice")
		records, err := collect(t, st)
		require.NoError(t, err)
		require.Empty(t, records)
		require.Equal(t, DialectUnknown, st.Dialect())
		require.Len(t, st.Summary().Warnings, 1)
	}
}

func TestStreamSkipsBOMAndWhitespace(t *testing.T) {
	input := "\xEF\xBB\xBF \r\n\t" + aliceDoc
	records, err := collect(t, NewParser().NewStream(strings.NewReader(input), "alice"))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestStreamSkipsUnrelatedMembers(t *testing.T) {
	input := `{"meta":{"a":[1,2,{"b":[3]}],"c":"}"},"semanticSegments":[{"startTime":"2023-01-01T00:00:00Z","visit":{"topCandidate":{"placeId":"p1"}}}],"rawSignals":[[1],[2]]}`
	records, err := collect(t, NewParser().NewStream(strings.NewReader(input), "alice"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "p1", *records[0].VisitPlaceID)
}

func TestStreamStructuralErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  error
	}{
		{name: "no segments", input: `{"rawSignals":[]}`, want: ErrUnsupportedFormat},
		{name: "segments not array", input: `{"semanticSegments":{"a":1}}`, want: ErrInvalidStructure},
		{name: "truncated android", input: `{"semanticSegments":[{"visit":{}},{"startTime":`, want: ErrMalformedJSON},
		{name: "truncated iphone", input: `[{"startTime":"2023-01-01T00:00:00Z"},`, want: ErrMalformedJSON},
		{name: "trailing text", input: aliceDoc + ` trailing`, want: ErrMalformedJSON},
		{name: "second document", input: aliceDoc + "\n" + aliceDoc, want: ErrMalformedJSON},
		{name: "trailing comma", input: `[{"startTime":"2023-01-01T00:00:00Z"}],`, want: ErrMalformedJSON},
		{name: "iphone first item without start", input: `[{"foo":1,"visit":{"topCandidate":{"placeID":"p1"}}}]`, want: ErrUnsupportedFormat},
		{name: "iphone first item not object", input: `[1,{"startTime":"2023-01-01T00:00:00Z"}]`, want: ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := NewParser().NewStream(strings.NewReader(tc.input), "alice")
			_, err := collect(t, st)
			require.ErrorIs(t, err, tc.want)
			require.False(t, st.Summary().IsValid())

			_, _, err = NewParser().Parse([]byte(tc.input), "alice")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStreamAllowsTrailingWhitespace(t *testing.T) {
	st := NewParser().NewStream(iotest.OneByteReader(strings.NewReader(aliceDoc+" \r\n\t\n")), "alice")
	records, err := collect(t, st)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, st.Summary().IsValid())
}

func TestStreamEmptyExports(t *testing.T) {
	for _, input := range []string{`{"semanticSegments":[]}`, `[]`} {
		st := NewParser().NewStream(strings.NewReader(input), "alice")
		records, err := collect(t, st)
		require.NoError(t, err)
		require.Empty(t, records)
		require.Len(t, st.Summary().Warnings, 1)
	}
}

func TestStreamEarlyStopAndSingleUse(t *testing.T) {
	st := NewParser().NewStream(bytes.NewReader(readFixture(t, "testdata/android.json")), "alice")
	seen := 0
	for _, err := range st.Records() {
		require.NoError(t, err)
		seen++
		break
	}
	require.Equal(t, 1, seen)
	require.True(t, st.Summary().IsValid())

	_, err := collect(t, st)
	require.ErrorIs(t, err, errStreamConsumed)
}

func TestStreamTokenBeyondPeekWindow(t *testing.T) {
	input := strings.Repeat(" ", 64) + aliceDoc
	records, err := collect(t, NewParser(WithPeekSize(8)).NewStream(strings.NewReader(input), "alice"))
	require.NoError(t, err)
	require.Empty(t, records)
}
