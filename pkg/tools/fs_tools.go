package tools

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

func fsReadTool() Def {
	return Def{
		Name:         "fs.read",
		Mode:         "read",
		CapabilityID: "fs.read",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			path, err := stringArg(args, "fs.read", "path")
			if err != nil {
				return nil, err
			}

			resolved, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("invalid path: %w", err)
			}

			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, err
			}

			return evaluator.NewString(string(data)), nil
		},
	}
}

func fsWriteTool() Def {
	return Def{
		Name:         "fs.write",
		Mode:         "effect",
		CapabilityID: "fs.write",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			path, err := stringArg(args, "fs.write", "path")
			if err != nil {
				return nil, err
			}

			format := "raw"
			if f, ok := args.Get("format"); ok {
				if s, isStr := f.(evaluator.String); isStr {
					format = s.Value
				}
			}

			dataVal, ok := args.Get("data")
			if !ok {
				dataVal = evaluator.NewNull()
			}

			var content []byte
			switch d := dataVal.(type) {
			case evaluator.String:
				if format == "json" {
					content, err = json.MarshalIndent(d.Value, "", "  ")
				} else {
					content = []byte(d.Value)
				}
			default:
				content, err = evaluator.ValueToJSON(dataVal)
				if err == nil && format == "json" {
					var raw json.RawMessage = content
					content, err = json.MarshalIndent(raw, "", "  ")
				}
			}
			if err != nil {
				return nil, fmt.Errorf("cannot serialize data: %w", err)
			}

			resolved, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("invalid path: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
				return nil, fmt.Errorf("cannot create directory: %w", err)
			}

			if err := os.WriteFile(resolved, content, 0644); err != nil {
				return nil, err
			}

			return evaluator.NewRecord([]evaluator.KeyValue{
				{Key: "kind", Value: evaluator.NewString("file")},
				{Key: "path", Value: evaluator.NewString(resolved)},
				{Key: "bytes", Value: evaluator.NewNumber(float64(len(content)))},
				{Key: "sha256", Value: evaluator.NewString(fmt.Sprintf("%x", sha256.Sum256(content)))},
			}), nil
		},
	}
}

func fsListTool() Def {
	return Def{
		Name:         "fs.list",
		Mode:         "read",
		CapabilityID: "fs.read",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			path, err := stringArg(args, "fs.list", "path")
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}

			items := make([]evaluator.Value, len(entries))
			for i, entry := range entries {
				entryType := "other"
				if entry.IsDir() {
					entryType = "directory"
				} else if entry.Type().IsRegular() {
					entryType = "file"
				}
				items[i] = evaluator.NewRecord([]evaluator.KeyValue{
					{Key: "name", Value: evaluator.NewString(entry.Name())},
					{Key: "type", Value: evaluator.NewString(entryType)},
				})
			}
			return evaluator.NewList(items), nil
		},
	}
}

func fsExistsTool() Def {
	return Def{
		Name:         "fs.exists",
		Mode:         "read",
		CapabilityID: "fs.read",
		Execute: func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error) {
			path, err := stringArg(args, "fs.exists", "path")
			if err != nil {
				return nil, err
			}
			_, err = os.Stat(path)
			return evaluator.NewBool(err == nil), nil
		},
	}
}
