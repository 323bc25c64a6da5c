/*
Package config loads engine.Options from a YAML file, for cmd/stratadb and
for test fixtures that want a named config instead of constructing
engine.Options by hand. It mirrors the teacher's configuration loading
style: a plain struct with yaml tags, a Load(path) that os.ReadFile plus
gopkg.in/yaml.v3 unmarshals it, and sane defaults applied for anything the
file omits.
*/
package config
