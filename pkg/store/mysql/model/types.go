package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a custom type for JSON columns (map[string]interface{})
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONMap: unsupported type %T", value)
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	*j = JSONMap(result)
	return nil
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// CompetencyMap stores per-task-type competency scores as a JSON column.
type CompetencyMap map[string]int

// Scan implements sql.Scanner interface
func (c *CompetencyMap) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan CompetencyMap: unsupported type %T", value)
	}

	result := make(map[string]int)
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	*c = CompetencyMap(result)
	return nil
}

// Value implements driver.Valuer interface
func (c CompetencyMap) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}
