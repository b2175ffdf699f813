package timeline

import (
	"github.com/tidwall/gjson"
)

// Parse reads a complete export held in memory. Structural problems are
// returned as errors alongside the summary; per-record problems only show up
// as summary warnings.
func (p *Parser) Parse(data []byte, owner string) ([]Record, Summary, error) {
	s := p.NewSession(owner)
	if !gjson.ValidBytes(data) {
		s.validator.AddError(ErrMalformedJSON.Error())
		return nil, s.Summary(), ErrMalformedJSON
	}

	doc := gjson.ParseBytes(data)
	dialect, err := DetectDocument(doc)
	if err != nil {
		// An empty array reads the same as an iPhone export without items.
		if !doc.IsArray() || len(doc.Array()) != 0 {
			s.validator.AddError(err.Error())
			return nil, s.Summary(), err
		}
		dialect = DialectIPhone
	}
	if !ValidateStructure(doc, dialect, s.validator) {
		return nil, s.Summary(), ErrInvalidStructure
	}

	units := doc
	if dialect == DialectAndroid {
		units = doc.Get(androidSegmentsKey)
	}

	var records []Record
	units.ForEach(func(_, unit gjson.Result) bool {
		s.process(dialect, unit.Value(), func(r Record) bool {
			records = append(records, r)
			return true
		})
		return true
	})
	return records, s.Summary(), nil
}

// DetectBytes classifies a buffered export without extracting records.
func DetectBytes(data []byte) (Dialect, error) {
	if !gjson.ValidBytes(data) {
		return DialectUnknown, ErrMalformedJSON
	}
	return DetectDocument(gjson.ParseBytes(data))
}
