package main

import (
	_ "github.com/CN-TU/go-middlebox/modules/audits/csv"
	_ "github.com/CN-TU/go-middlebox/modules/audits/ipfix"
	_ "github.com/CN-TU/go-middlebox/modules/audits/msgpack"
	_ "github.com/CN-TU/go-middlebox/modules/audits/sqlite"
	_ "github.com/CN-TU/go-middlebox/modules/audits/text"
	_ "github.com/CN-TU/go-middlebox/modules/filters/blocklist"
	_ "github.com/CN-TU/go-middlebox/modules/filters/length"
	_ "github.com/CN-TU/go-middlebox/modules/filters/ports"
	_ "github.com/CN-TU/go-middlebox/modules/filters/trigger"
	_ "github.com/CN-TU/go-middlebox/modules/sinks/badger"
	_ "github.com/CN-TU/go-middlebox/modules/sinks/file"
	_ "github.com/CN-TU/go-middlebox/modules/sinks/null"
	_ "github.com/CN-TU/go-middlebox/modules/sinks/pcap"
	_ "github.com/CN-TU/go-middlebox/modules/sources/file"
	_ "github.com/CN-TU/go-middlebox/modules/sources/inline"
	_ "github.com/CN-TU/go-middlebox/modules/sources/pcap"
)
