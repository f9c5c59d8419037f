package pathstore

import "errors"

var (
	// ErrInvalidPath адрес не соответствует синтаксису
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathNotFound конкретный адрес не найден в дереве
	ErrPathNotFound = errors.New("path not found")

	// ErrAmbiguousPath запись по адресу с wildcard или фильтром
	ErrAmbiguousPath = errors.New("path matches more than one location")

	// ErrNotJSON значение нельзя представить как JSON без циклов
	ErrNotJSON = errors.New("value is not plain JSON")
)
