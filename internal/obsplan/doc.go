// Package obsplan stores the night's observation plan: the targets the
// pilot walks through while conditions stay safe. Plans live in their
// own SQLite database so schedulers can prepare them offline.
package obsplan
