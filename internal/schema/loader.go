package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// file 是独立 schema 文件的结构
//
//	fields:
//	  - code: 2
//	    name: battery
//	    size: 1
//	    divisor: 1
type file struct {
	Fields []Entry `yaml:"fields"`
}

// Load 从 reader 中读取 yaml 格式的 schema
func Load(r io.Reader) (*Schema, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("解析 schema 失败: %w", err)
	}
	if len(f.Fields) == 0 {
		return nil, fmt.Errorf("schema 中没有任何字段")
	}
	return Build(f.Fields)
}

// LoadFile 从文件中读取 schema
func LoadFile(path string) (*Schema, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 schema 文件 %s 失败: %w", path, err)
	}
	defer fp.Close()
	return Load(fp)
}
