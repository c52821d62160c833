package boardcfg

// Populate embeddedBoards at build time (code generation) or manually
// during development. Key: board name. Val: raw JSON declaration.
const cfgCouplerV1 = `{
  "buses": [
    {"id": 0, "name": "main"},
    {"id": 1, "name": "ioexp"}
  ],
  "devices": [
    {"name": "eeprom", "bus": 0, "dev_addr": 160},
    {"name": "sn_rom", "bus": 0, "dev_addr": 176},
    {"name": "eui_rom", "bus": 0, "dev_addr": 176},
    {"name": "ioexp_test", "bus": 1, "dev_addr": 192}
  ]
}`

var embeddedBoards = map[string][]byte{
	"coupler-v1": []byte(cfgCouplerV1),
}
