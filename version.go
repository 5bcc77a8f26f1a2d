package falkordb

// Version is the library version reported with CLIENT SETINFO LIB-VER.
const Version = "1.0.0"
