package stdlib

import (
	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// parse.json { in: string } → any
func stdlibParseJSON(args *evaluator.Record) (evaluator.Value, error) {
	in, err := stringArg(args, "parse.json", "in")
	if err != nil {
		return nil, err
	}

	result, err := evaluator.ParseJSONToValue([]byte(in))
	if err != nil {
		return nil, evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeJSON, nil, "parse.json: %s", err.Error()).
			WithValue(evaluator.NewString(in))
	}
	return result, nil
}
