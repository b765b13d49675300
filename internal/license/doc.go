// Package license parses the human-readable status dumps of license managers
// (FlexLM "lmstat -a" and lookalikes) into Features and the sessions holding their seats.
//
// Parsing is deliberately forgiving. Each line runs through an ordered cascade of
// matchers (header, metadata, strict session, loose session) and anything that matches
// none of them is skipped. A whole-file parse only fails when the file cannot be read.
package license
