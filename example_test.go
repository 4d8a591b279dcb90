package zipfile

import (
	"bytes"
	"fmt"
	"log"
	"regexp"
)

func ExampleNew() {
	c := New()
	if _, err := c.PutBytes("hello.txt", []byte("Hello, world!")); err != nil {
		log.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		log.Fatal(err)
	}

	rc, err := OpenBytes(buf.Bytes())
	if err != nil {
		log.Fatal(err)
	}
	content, err := rc.GetBytes("hello.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(content))
	// Output: Hello, world!
}

func ExampleEntry_SetPassword() {
	c := New()
	e, err := c.PutBytes("secret.txt", []byte("the vault combination"))
	if err != nil {
		log.Fatal(err)
	}
	if err := e.SetPassword("swordfish", EncryptionAES256); err != nil {
		log.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		log.Fatal(err)
	}

	rc, err := OpenBytes(buf.Bytes())
	if err != nil {
		log.Fatal(err)
	}
	rc.SetReadPassword("swordfish")
	content, err := rc.GetBytes("secret.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(content))
	// Output: the vault combination
}

func ExampleMatcher() {
	c := New()
	c.PutBytes("src/main.go", nil)
	c.PutBytes("src/main_test.go", nil)
	c.PutBytes("README.md", nil)

	removed := c.Matcher().Match(regexp.MustCompile(`_test\.go$`)).Delete()
	fmt.Println(removed, c.Names())
	// Output: 1 [src/main.go README.md]
}
