package util

import "fmt"

// PanicIf panic with the formatted message when cond holds. used for invalid
// constructor arguments: empty cache ids, nil stores, non positive sizes
func PanicIf(cond bool, format string, v ...interface{}) {
	if cond {
		panic(fmt.Errorf(format, v...))
	}
}

// PanicIfErr panic with err wrapped under the formatted context, errors.Is
// still matches the recovered value
func PanicIfErr(err error, format string, v ...interface{}) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", fmt.Sprintf(format, v...), err))
	}
}
