package schema

import "strings"

type DataType string

const (
	TypeText     DataType = "TEXT"
	TypeInteger  DataType = "INTEGER"
	TypeReal     DataType = "REAL"
	TypeBoolean  DataType = "BOOLEAN"
	TypeDate     DataType = "DATE"
	TypeDateTime DataType = "DATETIME"
	TypeBlob     DataType = "BLOB"
)

// DataTypes lists the supported column types in display order.
var DataTypes = []DataType{TypeText, TypeInteger, TypeReal, TypeBoolean, TypeDate, TypeDateTime, TypeBlob}

func ParseDataType(s string) (DataType, bool) {
	dt := DataType(strings.ToUpper(strings.TrimSpace(s)))
	return dt, dt.Valid()
}

func (d DataType) Valid() bool {
	for _, known := range DataTypes {
		if d == known {
			return true
		}
	}
	return false
}

type OnDelete string

const (
	OnDeleteCascade    OnDelete = "CASCADE"
	OnDeleteSetNull    OnDelete = "SET NULL"
	OnDeleteRestrict   OnDelete = "RESTRICT"
	OnDeleteSetDefault OnDelete = "SET DEFAULT"
	OnDeleteNoAction   OnDelete = "NO ACTION"
)

var OnDeleteActions = []OnDelete{OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict, OnDeleteSetDefault, OnDeleteNoAction}

// ParseOnDelete accepts the SQL spelling as well as underscore forms such as
// "set_null".
func ParseOnDelete(s string) (OnDelete, bool) {
	normalized := strings.Join(strings.Fields(strings.ReplaceAll(strings.ToUpper(s), "_", " ")), " ")
	a := OnDelete(normalized)
	return a, a.Valid()
}

func (a OnDelete) Valid() bool {
	for _, known := range OnDeleteActions {
		if a == known {
			return true
		}
	}
	return false
}
